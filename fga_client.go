// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"

	. "github.com/openfga/go-sdk/client"
)

// IFgaClient is an interface for OpenFGA client operations used in this service.
type IFgaClient interface {
	Read(ctx context.Context, req ClientReadRequest, options ClientReadOptions) (*ClientReadResponse, error)
	Write(ctx context.Context, req ClientWriteRequest) (*ClientWriteResponse, error)
}

// FgaAdapter is a wrapper around the OpenFGA client.
type FgaAdapter struct {
	OpenFgaClient
}

// Read executes a read request.
func (c FgaAdapter) Read(ctx context.Context, req ClientReadRequest, options ClientReadOptions) (*ClientReadResponse, error) {
	return c.OpenFgaClient.Read(ctx).Body(req).Options(options).Execute()
}

// Write executes a write request.
func (c FgaAdapter) Write(ctx context.Context, req ClientWriteRequest) (*ClientWriteResponse, error) {
	return c.OpenFgaClient.Write(ctx).Body(req).Execute()
}
