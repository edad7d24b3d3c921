// Copyright 2025 FleetTools Authors
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

package validate

import (
	"github.com/invopop/jsonschema"

	"github.com/fleettools/coordination-core/internal/config"
)

// ConfigSchema reflects config.Config into a JSON Schema document for
// external tooling (editors, config generators) to validate a config file
// against before the Core ever starts. No command of the fleetcore binary
// exposes it.
func ConfigSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://fleettools.dev/schemas/coordination-core-config.json"
	schema.Title = "Coordination Core Configuration Schema"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	return schema
}
