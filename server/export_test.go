package server

import (
	"context"

	"github.com/momentics/m2relay/api"
)

// Prepare installs h without entering the loop.
func (s *Server) Prepare(ctx context.Context, h api.Handler) {
	s.runCtx = ctx
	s.handler = s.chain(h)
}

// Step runs one loop iteration.
func (s *Server) Step() error { return s.iterate() }
