package decoder

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

// Calibration is one row of the run-dependent pedestal table.
type Calibration struct {
	Channel     string  `db:"Channel"`
	Pedestal    float64 `db:"Pedestal"`
	Calibration float64 `db:"Calibration"`
}

// LoadCalibrations reads the pedestals valid for a run. They replace the
// pedestal file when the database is in use.
func LoadCalibrations(db *sqlx.DB, runNumber int) ([]PedestalEntry, error) {
	query := "SELECT Channel, Pedestal, Calibration FROM Calibrations WHERE MinRun <= ? and MaxRun >= ? ORDER BY Channel"

	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Reading calibrations for run %d from database", runNumber), "database")
	}
	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Query: %s", query)
		logger.Info(message, "database")
	}

	rows, err := db.Queryx(query, runNumber, runNumber)
	if err != nil {
		errMessage := fmt.Errorf("error querying database: %w", err)
		return nil, errMessage
	}
	defer rows.Close()

	var entries []PedestalEntry
	for rows.Next() {
		result := Calibration{}
		err := rows.StructScan(&result)
		if err != nil {
			errMessage := fmt.Errorf("error scanning DB row: %w", err)
			return nil, errMessage
		}
		entries = append(entries, PedestalEntry{
			Name:        strings.ToLower(result.Channel),
			Pedestal:    result.Pedestal,
			Calibration: result.Calibration,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading calibrations: %w", err)
	}
	return entries, nil
}
