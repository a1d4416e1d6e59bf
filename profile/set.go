package profile

// Set is an ordered list of profiles keyed to a single output target, with
// a designated default index (spec.md §3 "Profile set").
type Set struct {
	Profiles []*Profile
	Default  int
}

// At returns the profile at index i, or an error if out of range.
func (s *Set) At(i int) (*Profile, error) {
	if i < 0 || i >= len(s.Profiles) {
		return nil, &ErrUnknownProfile{Detail: "index out of range"}
	}
	return s.Profiles[i], nil
}

// Len returns the number of profiles in the set.
func (s *Set) Len() int { return len(s.Profiles) }
