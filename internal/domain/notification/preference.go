package notification

// Preference is a user's opt-in matrix of category x channel.
// Corresponds to the 'notification_preferences' table, one row per user.
type Preference struct {
	UserID string
	Flags  map[Category]map[Channel]bool
}

// DefaultPreference is applied to users without a stored row.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID: userID,
		Flags: map[Category]map[Channel]bool{
			CategoryAppointments: {ChannelEmail: true, ChannelInApp: true},
			CategoryCaseUpdates:  {ChannelEmail: true, ChannelInApp: false},
			CategorySystem:       {ChannelEmail: true, ChannelInApp: true},
		},
	}
}

// Enabled reports whether the user opted in to cat on ch.
func (p *Preference) Enabled(cat Category, ch Channel) bool {
	if p == nil || p.Flags == nil {
		return false
	}
	return p.Flags[cat][ch]
}

// Set toggles one flag.
func (p *Preference) Set(cat Category, ch Channel, on bool) {
	if p.Flags == nil {
		p.Flags = make(map[Category]map[Channel]bool)
	}
	if p.Flags[cat] == nil {
		p.Flags[cat] = make(map[Channel]bool)
	}
	p.Flags[cat][ch] = on
}

// Channels lists the enabled channels for cat in a stable order.
func (p *Preference) Channels(cat Category) []Channel {
	var out []Channel
	for _, ch := range []Channel{ChannelEmail, ChannelInApp} {
		if p.Enabled(cat, ch) {
			out = append(out, ch)
		}
	}
	return out
}
