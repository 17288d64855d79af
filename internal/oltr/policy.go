package oltr

// Policy selects how a learner presents results while collecting feedback.
type Policy int

const (
	// Explore presents a uniformly random permutation.
	Explore Policy = iota
	// Exploit presents the current ranker's ordering.
	Exploit
)

func (p Policy) String() string {
	if p == Explore {
		return "explore"
	}
	return "exploit"
}

// SelectPolicy returns Explore iff iteration < exploreIterations. A threshold
// of zero is Follow-the-Leader: always exploit the current ranker.
func SelectPolicy(iteration, exploreIterations int) Policy {
	if iteration < exploreIterations {
		return Explore
	}
	return Exploit
}
