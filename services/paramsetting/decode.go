package paramsetting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"vslib-go/errcode"
	"vslib-go/types"
)

// newValidator returns a validator that knows the command schema tags.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("jsonvalue", isJSONValue); err != nil {
		panic(err)
	}
	return v
}

// isJSONValue accepts a raw JSON array, boolean, number or string.
func isJSONValue(fl validator.FieldLevel) bool {
	b := bytes.TrimSpace(fl.Field().Bytes())
	if len(b) == 0 || !json.Valid(b) {
		return false
	}
	switch b[0] {
	case '[', '"', 't', 'f':
		return true
	case 'n', '{':
		return false
	default:
		return b[0] == '-' || (b[0] >= '0' && b[0] <= '9')
	}
}

// decodeCommand turns any supported payload into a validated command.
func decodeCommand(v *validator.Validate, want types.Version, payload any) (types.Command, error) {
	var cmd types.Command
	switch p := payload.(type) {
	case types.Command:
		cmd = p
	case *types.Command:
		if p == nil {
			return cmd, invalid("nil command")
		}
		cmd = *p
	case []byte:
		if err := unmarshalStrict(p, &cmd); err != nil {
			return cmd, err
		}
	case json.RawMessage:
		if err := unmarshalStrict(p, &cmd); err != nil {
			return cmd, err
		}
	case string:
		if err := unmarshalStrict([]byte(p), &cmd); err != nil {
			return cmd, err
		}
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return cmd, invalid(err.Error())
		}
		if err := unmarshalStrict(b, &cmd); err != nil {
			return cmd, err
		}
	default:
		return cmd, invalid(fmt.Sprintf("unsupported payload type %T", payload))
	}

	if err := v.Struct(cmd); err != nil {
		return cmd, invalid(describeValidation(err))
	}
	if cmd.Version[0] != want.Major {
		return cmd, &errcode.E{
			C:   errcode.VersionMismatch,
			Op:  "paramsetting.decode",
			Msg: fmt.Sprintf("interface version %v does not match major %d", cmd.Version, want.Major),
		}
	}
	return cmd, nil
}

func unmarshalStrict(b []byte, cmd *types.Command) error {
	if err := json.Unmarshal(b, cmd); err != nil {
		return invalid(err.Error())
	}
	return nil
}

func invalid(msg string) error {
	return &errcode.E{C: errcode.InvalidCommand, Op: "paramsetting.decode", Msg: msg}
}

// describeValidation flattens validator errors into one line naming each
// offending field.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
