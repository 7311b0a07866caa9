// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the hub daemon's configuration.

# Overview

config owns the full lifecycle of daemon configuration: section structs,
defaults, and a Loader that merges defaults, a YAML file, and environment
variables, in that priority order.

# Core structures

  - Config: top-level aggregate covering Hub, KV, Supervisor, Assignment,
    Audit, Status, Log, Telemetry
  - Loader: builder-pattern loader for chaining config path, env prefix,
    and custom validators

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("hub.yaml").
		WithEnvPrefix("HUB").
		Load()
*/
package config
