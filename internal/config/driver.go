package config

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	Postgres StorageDriver = "postgres"
	Memory   StorageDriver = "memory"
)

func (d StorageDriver) String() string {
	return string(d)
}

func (d StorageDriver) Valid() bool {
	return d == Postgres || d == Memory
}
