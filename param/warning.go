package param

import (
	"fmt"

	"vslib-go/errcode"
)

// Warning is a non-fatal diagnostic produced while validating a value or a
// component. A nil *Warning means no problem was found.
type Warning struct {
	C   errcode.Code
	Msg string
}

func (w *Warning) Error() string      { return w.Msg }
func (w *Warning) Code() errcode.Code { return w.C }

// Warnf builds a Warning with a formatted message.
func Warnf(code errcode.Code, format string, args ...any) *Warning {
	return &Warning{C: code, Msg: fmt.Sprintf(format, args...)}
}
