package chat

// AdminSentinel is the participant id clients use to address support.
const AdminSentinel = "admin"

const supportRoomPrefix = "admin-"

// AdminResolver rewrites the "admin" sentinel into the configured support
// user id. The zero value rewrites nothing.
type AdminResolver struct {
	supportID string
}

func NewAdminResolver(supportID string) AdminResolver {
	return AdminResolver{supportID: supportID}
}

func (r AdminResolver) SupportID() string { return r.supportID }

// Resolve returns id unchanged unless it is exactly the sentinel.
func (r AdminResolver) Resolve(id string) string {
	if id == AdminSentinel && r.supportID != "" {
		return r.supportID
	}
	return id
}

// Apply rewrites receiver and room ids of a draft.
func (r AdminResolver) Apply(d Draft) Draft {
	d.ReceiverID = r.Resolve(d.ReceiverID)
	d.RoomID = r.Resolve(d.RoomID)
	return d
}

// SupportRoomID is the conventional room between a user and support.
func SupportRoomID(userID string) string {
	return supportRoomPrefix + userID
}

// SupportRoomFor returns the support room id for a pair in which exactly one
// side is the support user.
func (r AdminResolver) SupportRoomFor(a, b string) (string, bool) {
	if r.supportID == "" || a == b {
		return "", false
	}
	switch r.supportID {
	case a:
		return SupportRoomID(b), true
	case b:
		return SupportRoomID(a), true
	}
	return "", false
}
