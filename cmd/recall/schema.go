// Copyright 2025 Recall Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/recallhq/recall/pkg/config"
)

// SchemaCmd emits the JSON Schema of the service configuration, for
// deployment tooling and config validation. Output goes to stdout.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Recall Configuration Schema"
	schema.Description = "Environment-driven configuration for the recall service"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	var out []byte
	var err error
	if c.Compact {
		out, err = json.Marshal(schema)
	} else {
		out, err = json.MarshalIndent(schema, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	fmt.Println(string(out))
	return nil
}
