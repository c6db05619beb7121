// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable sockets, a socket factory, a reactor that
// never blocks, and a manual clock.
package fake
