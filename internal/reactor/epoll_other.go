//go:build !linux

package reactor

import "errors"

var errUnsupported = errors.New("reactor: epoll is only available on linux")

// Epoll is unavailable outside Linux; New always fails.
type Epoll struct{}

func New() (*Epoll, error) { return nil, errUnsupported }

func (e *Epoll) Register(int, Direction) error  { return errUnsupported }
func (e *Epoll) Modify(int, Direction) error    { return errUnsupported }
func (e *Epoll) Unregister(int) error           { return errUnsupported }
func (e *Epoll) Wait(int, int) ([]Event, error) { return nil, errUnsupported }
func (e *Epoll) Close() error                   { return nil }
