//go:build cgo

package db

import (
	"errors"
	"strconv"

	"github.com/mattn/go-sqlite3"
)

func init() {
	drivers[DriverMattn] = mattnDSN
	driverClassifiers = append(driverClassifiers, classifyMattn)
}

func mattnDSN(path string, busy int) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate" +
		"&_busy_timeout=" + strconv.Itoa(busy)
}

func classifyMattn(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	return kindForCode(int(se.Code))
}
