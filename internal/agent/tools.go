package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ToolName is the only tool advertised to the model.
const ToolName = "execute_ssh_command"

// ToolDescription is the advertised tool description.
const ToolDescription = "Execute a shell command on the remote server. Supports stdin injection."

// Tool-role contents for invocations that never reach the executor.
const (
	invalidJSONMessage    = "Error: Model generated invalid JSON arguments"
	invalidArgsPrefix     = "Error: Invalid arguments for " + ToolName + ": "
	unknownToolPrefix     = "Error: Unknown tool "
	internalErrorTemplate = "Internal Execution Error: %v"
)

var (
	// ErrMalformedArguments means the arguments were not a JSON object.
	ErrMalformedArguments = errors.New("malformed tool arguments")
	// ErrInvalidArguments means the arguments did not satisfy the tool schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// CommandArgs are the parsed arguments of execute_ssh_command.
type CommandArgs struct {
	Command   string
	InputData string
}

// ToolParameters returns the JSON schema of the tool arguments.
func ToolParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The bash command to execute (e.g., 'ls -la /root/data', 'python3 script.py')",
			},
			"input_data": map[string]any{
				"type":        "string",
				"description": "Optional stdin data (e.g., for interactive prompts or piping). Use \\n for newlines",
			},
		},
		"required": []string{"command"},
	}
}

var commandSchema = mustCompileSchema(ToolParameters())

func mustCompileSchema(schema map[string]any) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", ToolName, err))
	}
	return compiled
}

// ParseCommandArgs decodes and validates raw tool arguments. Null-valued
// optional fields are treated as absent.
func ParseCommandArgs(raw string) (CommandArgs, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return CommandArgs{}, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return CommandArgs{}, fmt.Errorf("%w: arguments are not a JSON object", ErrMalformedArguments)
	}
	for k, v := range obj {
		if v == nil {
			delete(obj, k)
		}
	}

	result, err := commandSchema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return CommandArgs{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return CommandArgs{}, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(problems, "; "))
	}

	args := CommandArgs{Command: obj["command"].(string)}
	if input, ok := obj["input_data"].(string); ok {
		args.InputData = input
	}
	return args, nil
}

// argumentErrorContent renders a ParseCommandArgs error as tool-role content.
func argumentErrorContent(err error) string {
	if errors.Is(err, ErrMalformedArguments) {
		return invalidJSONMessage
	}
	detail := strings.TrimPrefix(err.Error(), ErrInvalidArguments.Error()+": ")
	return invalidArgsPrefix + detail
}
