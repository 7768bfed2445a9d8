package geolocate

import "fmt"

func errEmptyPolyline(routeID, direction string) error {
	return fmt.Errorf("route %s/%s has no dissolved polyline to project onto", routeID, direction)
}

func errBeyondBound(tripID string, snapDistM, boundM float64) error {
	return fmt.Errorf("trip %s: snap distance %.1fm exceeds bound %.1fm", tripID, snapDistM, boundM)
}
