package registry

import (
	"encoding/json"

	"github.com/secbot-io/secbot/common/secerr"
)

// DecodeConfig validates a component's config map against the handler's
// typed config schema.
func DecodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return secerr.Wrap(secerr.KindConfig, "encode component config", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return secerr.Wrap(secerr.KindConfig, "component config does not match handler schema", err)
	}
	return nil
}

// DecodeEnv validates a component's resolved env map against the handler's
// typed env schema.
func DecodeEnv(raw map[string]string, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return secerr.Wrap(secerr.KindConfig, "encode component env", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return secerr.Wrap(secerr.KindConfig, "component env does not match handler schema", err)
	}
	return nil
}
