package util

import "strings"

func ContainsString(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}

	return false
}

// NormaliseRegistration uppercases a vehicle registration plate and strips
// the spacing vendors disagree about
func NormaliseRegistration(registration string) string {
	return strings.ToUpper(strings.ReplaceAll(registration, " ", ""))
}
