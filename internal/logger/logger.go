// Package logger builds the service-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zstack "github.com/rs/zerolog/pkgerrors"
)

var configure sync.Once

// New returns the root logger for the named service, writing JSON lines to
// stdout. Error events logged with .Stack() carry a pkg/errors stack
// trace; errors created without one get a stack attached at the log site.
func New(service string) zerolog.Logger {
	return newWithWriter(os.Stdout, service)
}

func newWithWriter(w io.Writer, service string) zerolog.Logger {
	configure.Do(func() {
		zerolog.ErrorStackMarshaler = marshalStack
		zerolog.ErrorMarshalFunc = ensureStack
	})

	return zerolog.New(w).With().
		Str("service", service).
		Timestamp().
		Logger()
}

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

func marshalStack(err error) interface{} {
	if _, ok := err.(stackTracer); !ok {
		err = pkgerrors.WithStack(err)
	}
	return zstack.MarshalStack(err)
}

// ensureStack keeps an existing pkg/errors stack and attaches one to
// plain errors so the stack marshaler always has something to render.
func ensureStack(err error) interface{} {
	if _, ok := err.(stackTracer); ok {
		return err
	}
	return pkgerrors.WithStack(err)
}
