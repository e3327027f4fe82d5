// Package domain models autonomous-vehicle incident data published by NHTSA
// under Standing General Order 2021-01.
//
// # Data Source
//
// Manufacturers and operators of vehicles equipped with an Automated Driving
// System (ADS) or a Level 2 Advanced Driver Assistance System (ADAS) must
// report qualifying crashes. NHTSA publishes the reports as CSV files at
// https://static.nhtsa.gov/odi/ffdd/sgo-2021-01/, one file per system class.
// Each row is one report; a crash may be reported more than once (several
// entities, or successive report versions) and such rows share a
// "Same Incident ID".
//
// # Conventions
//
// Dates:
//
//	"Incident Date" uses MON-YYYY, e.g. "OCT-2025", resolved to the first of
//	the month. Older exports use MM/DD/YYYY or YYYY-MM-DD, or a month name
//	("November 2024") in "Incident Month/Year". "Incident Time (24:00)" is
//	HH:MM and is applied on top of the date when present.
//
// Redaction:
//
//	Confidential fields read "[REDACTED, MAY CONTAIN CONFIDENTIAL BUSINESS
//	INFORMATION]". Coordinates are frequently blank, redacted or "Unknown".
//	Redacted values are treated as absent.
//
// Severity:
//
//	"Highest Injury Severity Alleged" is free text ("Fatality", "Serious",
//	"Moderate", "Minor", "No Injured Reported", "Unknown"). Fatal or serious
//	crashes classify as collisions, minor or possible injuries as near misses,
//	and anything else defaults to a collision because the datasets contain
//	crash reports only.
//
// # ID Generation
//
// External IDs are "<dataset prefix>-<Report ID>", e.g. "nhtsa-ads-30270-4962".
// Rows without a report ID fall back to "<prefix>-row-<index>". The IDs are the
// upsert conflict target, so re-ingesting the same export updates rows in
// place instead of duplicating them. See [ExternalID].
package domain
