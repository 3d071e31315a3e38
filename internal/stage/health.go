package stage

// Health reports whether a stage can currently do useful work. Detail
// carries the operator-facing reason when it cannot.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks a stage ready.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy marks a stage not ready and says why.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}
