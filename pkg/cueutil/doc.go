// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// ParseAndDecode runs the 3-step CUE parsing flow used for definition files.
// The config loader reuses CheckFileSize and FormatError:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify with schema
//  3. Validate and decode to Go struct
//
// # Usage
//
//	//go:embed definition_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Definition](
//	    schemaBytes,
//	    fileBytes,
//	    "#Definition",
//	    cueutil.WithFilename("3.11.4.cue"),
//	)
//	if err != nil {
//	    return nil, err  // Error includes CUE path for debugging
//	}
//	return result.Value, nil
package cueutil
