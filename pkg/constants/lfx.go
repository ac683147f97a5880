// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

import (
	"fmt"
	"strings"
)

// LFXEnvironment is the environment name of the LFX platform. Every NATS
// subject of the service is prefixed with it.
type LFXEnvironment string

// Constants for the environment names of the LFX platform.
const (
	LFXEnvironmentDev  LFXEnvironment = "dev"
	LFXEnvironmentStg  LFXEnvironment = "stg"
	LFXEnvironmentProd LFXEnvironment = "prod"
)

// ParseLFXEnvironment parses the LFX environment from a string. Long names
// such as "staging" are accepted.
func ParseLFXEnvironment(env string) (LFXEnvironment, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development":
		return LFXEnvironmentDev, nil
	case "stg", "stage", "staging":
		return LFXEnvironmentStg, nil
	case "prod", "production":
		return LFXEnvironmentProd, nil
	default:
		return "", fmt.Errorf("unknown LFX environment %q", env)
	}
}

// Decode implements the envconfig Decoder interface.
func (e *LFXEnvironment) Decode(value string) error {
	env, err := ParseLFXEnvironment(value)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// Subject returns the subject scoped to the environment, for example
// "dev.lfx.access_check.request".
func (e LFXEnvironment) Subject(subject string) string {
	return string(e) + "." + subject
}
