// Package stream talks to the remote video service that stores and plays
// back uploaded media.
//
// Pushing a video is a two-step exchange:
//
//  1. CreateVideo registers a new entry under the configured library and
//     returns the identifier the service assigned. Without an identifier no
//     bytes are ever transferred.
//  2. UploadVideo streams the raw bytes into that entry with a single PUT.
//
// A failed second step leaves the entry behind on the remote side. The
// package reports the failure and keeps the identifier in the error path so
// callers can log the orphaned entry; it never deletes remote state.
//
// Playback addresses are pure string templates over (library ID, video ID)
// and never involve the network. Video exposes the remote processing state
// for reconciliation after direct uploads.
//
// Config is built once at startup from MEDIARELAY_STREAM_* variables; the
// package performs no environment lookups after that.
package stream
