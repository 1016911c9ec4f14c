package dht

import "sort"

// sortByDistance orders contacts nearest-to-target first.
func sortByDistance(contacts []Contact, target ID) {
	sort.Slice(contacts, func(i, j int) bool {
		di := Distance(contacts[i].ID, target)
		dj := Distance(contacts[j].ID, target)
		return Less(di, dj)
	})
}
