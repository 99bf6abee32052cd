package cluster

// MIGProfile is one supported GPU instance profile.
type MIGProfile struct {
	ID           int
	Name         string
	MemoryGiB    int
	SMFraction   string // e.g. "1/7"
	MaxInstances int
}

// migProfiles are the H100 80GB GPU instance profiles, ordered by ID.
var migProfiles = []MIGProfile{
	{ID: 19, Name: "MIG 1g.10gb", MemoryGiB: 10, SMFraction: "1/7", MaxInstances: 7},
	{ID: 20, Name: "MIG 1g.10gb+me", MemoryGiB: 10, SMFraction: "1/7", MaxInstances: 1},
	{ID: 15, Name: "MIG 1g.20gb", MemoryGiB: 20, SMFraction: "1/7", MaxInstances: 4},
	{ID: 14, Name: "MIG 2g.20gb", MemoryGiB: 20, SMFraction: "2/7", MaxInstances: 3},
	{ID: 9, Name: "MIG 3g.40gb", MemoryGiB: 40, SMFraction: "3/7", MaxInstances: 2},
	{ID: 5, Name: "MIG 4g.40gb", MemoryGiB: 40, SMFraction: "4/7", MaxInstances: 1},
	{ID: 0, Name: "MIG 7g.80gb", MemoryGiB: 80, SMFraction: "7/7", MaxInstances: 1},
}

// MIGProfiles returns the supported profiles in display order.
func MIGProfiles() []MIGProfile {
	out := make([]MIGProfile, len(migProfiles))
	copy(out, migProfiles)
	return out
}

// MIGProfileByID returns the profile with the given ID.
func MIGProfileByID(id int) (MIGProfile, bool) {
	for _, p := range migProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return MIGProfile{}, false
}

// InstanceCount returns how many GPU instances of profile id exist on g.
func (g *GPU) InstanceCount(profileID int) int {
	n := 0
	for _, mi := range g.MIGInstances {
		if mi.ProfileID == profileID {
			n++
		}
	}
	return n
}
