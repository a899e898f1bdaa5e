//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package msgsock

import "time"

type pollSet struct {
	n int
}

func (p *pollSet) reset() {
	p.n = 0
}

func (p *pollSet) add(int) int {
	p.n++
	return p.n - 1
}

func (p *pollSet) ready(int) bool {
	return false
}

func (p *pollSet) wait(time.Duration) (int, error) {
	return 0, ErrPollUnsupported
}
