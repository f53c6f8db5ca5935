package transfer

import "fmt"

type ErrorKind int

const (
	KindBind ErrorKind = iota
	KindFilesystem
	KindClose
)

func (k ErrorKind) String() string {
	switch k {
	case KindBind:
		return "bind"
	case KindFilesystem:
		return "filesystem"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Error classifies a transfer server failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
