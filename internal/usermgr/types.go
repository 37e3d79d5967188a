package usermgr

type PasswdEntry struct {
	Name   string
	Passwd string
	UID    int
	GID    int
	Gecos  string
	Home   string
	Shell  string
}

type ShadowEntry struct {
	Name       string
	Hash       string
	LastChange string
	Min        string
	Max        string
	Warn       string
	Inactive   string
	Expire     string
	Reserved   string
}

type GroupEntry struct {
	Name    string
	Passwd  string
	GID     int
	Members []string
}

// HasMember reports whether user is listed as a supplementary member.
func (g *GroupEntry) HasMember(user string) bool {
	for _, m := range g.Members {
		if m == user {
			return true
		}
	}
	return false
}
