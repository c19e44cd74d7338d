package resolver

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"prevant/internal/apierr"
)

// validateUserDefined validates userDefined against schema. A nil/empty
// schema means validation is skipped.
func validateUserDefined(schema map[string]interface{}, userDefined interface{}) error {
	if len(schema) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefinedSchema is not valid JSON", err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefinedSchema is not a valid JSON Schema document", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("prevant://userDefinedSchema.json", schemaDoc); err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefinedSchema could not be loaded", err)
	}
	compiled, err := compiler.Compile("prevant://userDefinedSchema.json")
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefinedSchema failed to compile", err)
	}

	instanceBytes, err := json.Marshal(userDefined)
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefined payload is not valid JSON", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(instanceBytes))
	if err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefined payload is not valid JSON", err)
	}

	if err := compiled.Validate(instance); err != nil {
		return apierr.Wrap(apierr.KindInvalidPayload, "userDefined failed schema validation", err)
	}
	return nil
}
