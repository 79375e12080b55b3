// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay implements the combined filesystem as a FUSE mount.
//
// Every node in the presented tree corresponds to a virtual path. An
// operation that addresses a single inode by its full path — open,
// create, unlink, stat, chmod, truncate, readlink, each endpoint of a
// rename or link — is forwarded to exactly one physical path: the
// owning shard's root plus the virtual path, chosen by the path
// router. An operation on directory structure is not hash-addressed:
//
//   - Readdir unions the entries of the same relative directory in
//     every shard, since files beneath a directory may land in any
//     shard by hash. Repository metadata (.git) at the tree root is
//     suppressed so the overlay cannot present itself as a checkout.
//
//   - Mkdir and Rmdir apply to every shard in configured order. The
//     first failing shard aborts the operation; earlier shards keep
//     whatever the operation already did to them.
//
//   - Statfs reports the sum of the declared shard capacities and
//     zero free space. The overlay does no real-time accounting.
//
// Underlying OS errors cross the FUSE boundary verbatim as errnos —
// the overlay never retries and never reclassifies. Read and write
// traffic on open files goes through loopback file handles on the
// routed physical file, so data never passes through overlay code.
//
// # Cross-shard renames
//
// A rename routes its old and new paths independently. When the two
// resolve to different shards the underlying rename(2) crosses
// filesystem boundaries and fails with EXDEV, exactly as a caller of
// a single physical filesystem would see; userspace tools fall back
// to copy-and-delete, which re-routes the data correctly.
package overlay
