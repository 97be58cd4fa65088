package settings

// HoldInitFlight occupies the initialization flight with a run that loads
// nothing until release is closed.
func (s *Service) HoldInitFlight(release <-chan struct{}) {
	started := make(chan struct{})
	go s.flight.Do(initFlightKey, func() (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
}
