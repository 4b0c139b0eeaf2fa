package operation

import "sync/atomic"

type atomicView struct {
	p atomic.Pointer[View]
}

func (a *atomicView) Store(v View) {
	a.p.Store(&v)
}

func (a *atomicView) Load() View {
	if v := a.p.Load(); v != nil {
		return *v
	}
	return View{}
}
