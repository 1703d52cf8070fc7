//go:build !linux

package platform

import "fmt"

type Arena struct{}

func ReserveArena(size int) (*Arena, error) {
	return nil, fmt.Errorf("platform: arena reservation is only available on linux")
}

func (a *Arena) Activate(u *Uffd) error            { return errUnsupported }
func (a *Arena) Base() uintptr                     { return 0 }
func (a *Arena) Size() uintptr                     { return 0 }
func (a *Arena) Bytes() []byte                     { return nil }
func (a *Arena) Decommit(offset, length int) error { return errUnsupported }
func (a *Arena) Release() error                    { return errUnsupported }
func (a *Arena) Lock(offset, length int) error     { return errUnsupported }
func (a *Arena) Unlock(offset, length int) error   { return errUnsupported }
