package common

import (
	"fmt"
	"time"
)

// DateBucket selects the truncation applied by date groupers.
type DateBucket int

const (
	BucketDay DateBucket = iota
	BucketWeek
	BucketMonth
	BucketYear
)

func (b DateBucket) String() string {
	switch b {
	case BucketDay:
		return "day"
	case BucketWeek:
		return "week"
	case BucketMonth:
		return "month"
	case BucketYear:
		return "year"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func DateTime(ts int64, utc bool) time.Time {
	t := time.Unix(ts, 0)
	if utc {
		return t.UTC()
	}
	return t.Local()
}

// DateKey truncates a unix timestamp to its bucket and packs it as a
// decimal number: day YYYYMMDD, week YYYYDDD (day of year of the
// previous Sunday), month YYYYMM, year YYYY.
func DateKey(ts int64, bucket DateBucket, utc bool) uint64 {
	t := DateTime(ts, utc)
	year := t.Year()
	switch bucket {
	case BucketDay:
		return uint64(year*10000 + int(t.Month())*100 + t.Day())
	case BucketWeek:
		prevSunday := t.YearDay() - int(t.Weekday())
		if prevSunday <= 0 {
			year--
			prevSunday += 365
			if IsLeapYear(year) {
				prevSunday++
			}
		}
		return uint64(year*1000 + prevSunday)
	case BucketMonth:
		return uint64(year*100 + int(t.Month()))
	case BucketYear:
		return uint64(year)
	default:
		panic("usp")
	}
}
