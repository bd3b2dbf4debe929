// Package server implements the app-drop HTTP service: upload a mobile
// package (APK or IPA), get back a short share link, and let anyone holding
// the link install the app from a platform-specific page. iOS installs go
// through a generated over-the-air manifest; Android installs download the
// APK directly.
//
// Request flow:
//
//	POST /api/upload        multipart upload, streamed to the blob store
//	GET  /share/{shareID}   install page, bumps the download counter
//	GET  /plist/{shareID}   Apple OTA manifest (iOS records only)
//	GET  /uploads/{object}  raw stored package
//
// Records live in PostgreSQL, blobs in an S3-compatible store. A share ID is
// a 12-character crypto-random token and is the only access control on an
// upload.
package server
