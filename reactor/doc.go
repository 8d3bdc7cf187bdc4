// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll-mode event reactor (epoll on Linux) and a
// Loop that reads connection data into pooled buffers. Each Loop owns one
// pool.ThreadCache, so buffer churn on a loop stays off the arena locks.
package reactor
