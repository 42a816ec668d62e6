// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides memory-safe storage for decrypted credential
// material: passwords, passphrases, API tokens, and private key data.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// The execution engine decrypts credential inputs into Buffers and keeps
// them only for the lifetime of a single run. Because the memory is
// allocated outside the Go heap, the garbage collector never sees it and
// cannot copy or relocate it while the run is in flight.
package secret
