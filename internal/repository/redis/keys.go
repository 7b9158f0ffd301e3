package redis

import "fmt"

const ns = "stallbook:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyEventStalls(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:stalls", ns, eventID)
}

func KeyIdemSubmit(eventID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:applications:%d:%s", ns, eventID, idemKey)
}
