package decision

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/roa-designer/internal/domain"
)

// ParseArgs turns function-call arguments into a Decision. Fields that are
// missing or of the wrong type are treated as absent. Modifications without a
// name are dropped. A missing action becomes CONVERSE; an unknown one is kept
// verbatim and handled downstream.
func ParseArgs(args map[string]any) (domain.Decision, error) {
	st, err := structpb.NewStruct(args)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: decode function args: %w", domain.ErrDecisionUnavailable, err)
	}
	fields := st.GetFields()

	d := domain.Decision{
		ResponseText: strings.TrimSpace(stringField(fields, "response_text")),
		TemplateID:   strings.TrimSpace(stringField(fields, "template_uid")),
	}
	if d.TemplateID == "" {
		d.TemplateID = strings.TrimSpace(stringField(fields, "template_id"))
	}

	raw := stringField(fields, "action")
	if strings.TrimSpace(raw) == "" {
		d.Action = domain.ActionConverse
	} else {
		d.Action, _ = domain.ParseAction(raw)
	}

	for _, v := range fields["modifications"].GetListValue().GetValues() {
		mf := v.GetStructValue().GetFields()
		name := strings.TrimSpace(stringField(mf, "name"))
		if name == "" {
			continue
		}
		m := domain.Modification{Name: name}
		if s, ok := stringValue(mf["text"]); ok {
			m.Text = &s
		}
		if s, ok := stringValue(mf["image_url"]); ok {
			m.ImageURL = &s
		}
		d.Modifications = append(d.Modifications, m)
	}

	return d, nil
}

func stringField(fields map[string]*structpb.Value, key string) string {
	s, _ := stringValue(fields[key])
	return s
}

// stringValue reports whether v holds a string. Numbers are rendered so that
// a price sent as a number still reaches the template.
func stringValue(v *structpb.Value) (string, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, true
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64), true
	default:
		return "", false
	}
}
