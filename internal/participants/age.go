package participants

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	daysPerYear = 365.25
	dicomDate   = "20060102"
)

// Age derives the participant age in years from DICOM values.
//
// A PatientAge such as "034Y" or a bare "034" gives whole years; month,
// week and day ages are converted to years rounded to two decimals. Without a usable
// PatientAge the difference between StudyDate and PatientBirthDate is used.
// NotAvailable is returned when neither source works.
func Age(patientAge, birthDate, studyDate string) string {
	if age, ok := fromPatientAge(strings.TrimSpace(patientAge)); ok {
		return age
	}
	birth, err := time.Parse(dicomDate, strings.TrimSpace(birthDate))
	if err != nil {
		return NotAvailable
	}
	study, err := time.Parse(dicomDate, strings.TrimSpace(studyDate))
	if err != nil || study.Before(birth) {
		return NotAvailable
	}
	days := math.Round(study.Sub(birth).Hours() / 24)
	return formatYears(days / daysPerYear)
}

func fromPatientAge(s string) (string, bool) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return strconv.Itoa(n), true
	}
	if len(s) < 2 {
		return "", false
	}
	unit := strings.ToUpper(s[len(s)-1:])
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return "", false
	}
	switch unit {
	case "Y":
		return strconv.Itoa(n), true
	case "M":
		return formatYears(float64(n) / 12), true
	case "W":
		return formatYears(float64(n) * 7 / daysPerYear), true
	case "D":
		return formatYears(float64(n) / daysPerYear), true
	default:
		return "", false
	}
}

func formatYears(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
