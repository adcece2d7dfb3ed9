package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
)

func (s *Server) tlsEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

func (s *Server) applyTimeouts(srv *http.Server) {
	srv.ReadTimeout = s.config.ReadTimeout
	srv.ReadHeaderTimeout = s.config.ReadTimeout
	srv.WriteTimeout = s.config.WriteTimeout
	srv.IdleTimeout = s.config.IdleTimeout
}

// Start serves until Shutdown is called. A graceful stop returns nil.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	s.applyTimeouts(s.echo.Server)
	s.applyTimeouts(s.echo.TLSServer)

	var err error
	if s.tlsEnabled() {
		s.log().WithField("addr", addr).Info("serving HTTPS")
		err = s.echo.StartTLS(addr, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		s.log().WithField("addr", addr).Warn("serving plain HTTP, TLS is not configured")
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) log() logrus.FieldLogger {
	if s.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		return l
	}
	return s.logger
}
