package domain

// NHTSA Standing General Order CSV endpoints.
const (
	NHTSAADSURL   = "https://static.nhtsa.gov/odi/ffdd/sgo-2021-01/SGO-2021-01_Incident_Reports_ADS.csv"
	NHTSAADASURL  = "https://static.nhtsa.gov/odi/ffdd/sgo-2021-01/SGO-2021-01_Incident_Reports_ADAS.csv"
	NHTSAOtherURL = "https://static.nhtsa.gov/odi/ffdd/sgo-2021-01/SGO-2021-01_Incident_Reports_OTHER.csv"
)

// Dataset describes one ingestible source file.
type Dataset struct {
	Key         string // short identifier, e.g. "ads"
	Name        string // data_sources.name
	Description string
	URL         string
	Source      string // provenance tag written to incidents.source
	IDPrefix    string // external_id prefix
}

// ADSDataset returns the ADS (high-autonomy) incident report dataset.
func ADSDataset(url string) Dataset {
	return Dataset{
		Key:         "ads",
		Name:        "nhtsa_sgo_ads",
		Description: "NHTSA Standing General Order crash reports for Automated Driving Systems",
		URL:         url,
		Source:      SourceNHTSA,
		IDPrefix:    "nhtsa-ads",
	}
}

// ADASDataset returns the Level 2 ADAS incident report dataset.
func ADASDataset(url string) Dataset {
	return Dataset{
		Key:         "adas",
		Name:        "nhtsa_sgo_adas",
		Description: "NHTSA Standing General Order crash reports for Level 2 driver assistance systems",
		URL:         url,
		Source:      SourceNHTSA,
		IDPrefix:    "nhtsa-adas",
	}
}

// OtherDataset returns the dataset of reports whose automation class is unknown.
func OtherDataset(url string) Dataset {
	return Dataset{
		Key:         "other",
		Name:        "nhtsa_sgo_other",
		Description: "NHTSA Standing General Order crash reports with other or unknown automation",
		URL:         url,
		Source:      SourceNHTSA,
		IDPrefix:    "nhtsa-other",
	}
}
