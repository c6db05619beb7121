// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode event reactor the relay loop blocks in, with a ZeroMQ poller implementation.
package reactor
