package notification

// Payload is the alert content delivered by the platform. The scheduler never
// inspects it.
type Payload struct {
	AlertTitle       string         `json:"alert_title,omitempty"`
	AlertBody        string         `json:"alert_body,omitempty"`
	AlertAction      string         `json:"alert_action,omitempty"`
	HasAction        bool           `json:"has_action,omitempty"`
	AlertLaunchImage string         `json:"alert_launch_image,omitempty"`
	Category         string         `json:"category,omitempty"`
	BadgeNumber      int            `json:"badge_number,omitempty"`
	SoundName        string         `json:"sound_name,omitempty"`
	UserInfo         map[string]any `json:"user_info,omitempty"`
}

// Clone returns a deep copy; UserInfo maps and slices are copied recursively.
func (p Payload) Clone() Payload {
	cp := p
	if p.UserInfo != nil {
		cp.UserInfo = cloneMap(p.UserInfo)
	}
	return cp
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	default:
		return v
	}
}
