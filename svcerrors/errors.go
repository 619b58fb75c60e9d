// Package svcerrors collects the error kinds raised across this module,
// one exported struct plus one exported constructor per kind, the same
// "NewErrorXxx" idiom the teacher uses for its own bucket-provider errors.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package svcerrors

import "fmt"

// EncodingError is raised by the encoding package on malformed input or a
// non-UTC time presented on a path that requires UTC.
type EncodingError struct{ Msg string }

func (e *EncodingError) Error() string { return "encoding: " + e.Msg }

func NewEncodingError(format string, a ...interface{}) *EncodingError {
	return &EncodingError{Msg: fmt.Sprintf(format, a...)}
}

// ObjectStoreError is raised by an ObjectStore driver: missing key, missing
// bucket, or an underlying driver failure.
type ObjectStoreError struct{ Msg string }

func (e *ObjectStoreError) Error() string { return "objstore: " + e.Msg }

func NewObjectStoreError(format string, a ...interface{}) *ObjectStoreError {
	return &ObjectStoreError{Msg: fmt.Sprintf(format, a...)}
}

// PARError is raised by PAR issuance: a forbidden scope combination, or a
// driver-level failure to create the pre-authenticated request.
type PARError struct{ Msg string }

func (e *PARError) Error() string { return "par: " + e.Msg }

func NewPARError(format string, a ...interface{}) *PARError {
	return &PARError{Msg: fmt.Sprintf(format, a...)}
}

// PARPermissionsError is raised when a PAR is used for an operation its
// scope does not allow (e.g. writing through a read-only PAR).
type PARPermissionsError struct{ Msg string }

func (e *PARPermissionsError) Error() string { return "par permissions: " + e.Msg }

func NewPARPermissionsError(format string, a ...interface{}) *PARPermissionsError {
	return &PARPermissionsError{Msg: fmt.Sprintf(format, a...)}
}

// MutexTimeoutError is raised when a lease cannot be acquired within the
// configured timeout.
type MutexTimeoutError struct{ Key string }

func (e *MutexTimeoutError) Error() string {
	return fmt.Sprintf("mutex: timed out acquiring lease for %q", e.Key)
}

func NewMutexTimeoutError(key string) *MutexTimeoutError {
	return &MutexTimeoutError{Key: key}
}

// ServiceAccountError covers mismatched service identity, missing service
// password, and failed admin authorisation.
type ServiceAccountError struct{ Msg string }

func (e *ServiceAccountError) Error() string { return "service account: " + e.Msg }

func NewServiceAccountError(format string, a ...interface{}) *ServiceAccountError {
	return &ServiceAccountError{Msg: fmt.Sprintf(format, a...)}
}

// MissingServiceAccountError is raised when bootstrap (setup_service_info)
// was never performed.
type MissingServiceAccountError struct{ Msg string }

func (e *MissingServiceAccountError) Error() string { return "missing service account: " + e.Msg }

func NewMissingServiceAccountError(format string, a ...interface{}) *MissingServiceAccountError {
	return &MissingServiceAccountError{Msg: fmt.Sprintf(format, a...)}
}

// MissingDriveError is raised when drive-path resolution fails with
// autocreate off, or the caller is unauthorised to autocreate.
type MissingDriveError struct{ Name string }

func (e *MissingDriveError) Error() string {
	return fmt.Sprintf("there is no drive called %q available", e.Name)
}

func NewMissingDriveError(name string) *MissingDriveError {
	return &MissingDriveError{Name: name}
}

// PermissionError is raised for a null UserDrives or an
// authorisation/user_guid mismatch.
type PermissionError struct{ Msg string }

func (e *PermissionError) Error() string { return "permission denied: " + e.Msg }

func NewPermissionError(format string, a ...interface{}) *PermissionError {
	return &PermissionError{Msg: fmt.Sprintf(format, a...)}
}
