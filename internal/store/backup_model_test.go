package store

import "testing"

func TestIntervalSecondsUnitMap(t *testing.T) {
	cases := []struct {
		row  BackupScheduleRow
		want int64
	}{
		{BackupScheduleRow{Interval: 30, Unit: UnitMinute}, 1800},
		{BackupScheduleRow{Interval: 1, Unit: UnitHour}, 3600},
		{BackupScheduleRow{Interval: 2, Unit: UnitDay}, 172800},
		{BackupScheduleRow{Interval: 1, Unit: UnitWeek}, 604800},
	}
	for _, tc := range cases {
		if got := tc.row.IntervalSeconds(); got != tc.want {
			t.Errorf("IntervalSeconds(%+v) = %d, want %d", tc.row, got, tc.want)
		}
	}
}

func TestMaxIntervalForUnit(t *testing.T) {
	cases := map[ScheduleUnit]int{
		UnitMinute: 59,
		UnitHour:   23,
		UnitDay:    6,
		UnitWeek:   12,
	}
	for unit, want := range cases {
		if got := MaxIntervalForUnit(unit); got != want {
			t.Errorf("MaxIntervalForUnit(%s) = %d, want %d", unit, got, want)
		}
	}
}
