/*
Package config loads cuba's configuration document: named filesystems,
named profiles pairing a source and destination filesystem with a
transform policy, and engine-wide concurrency/retry knobs.

Precedence is file then environment then caller overrides:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/cuba/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Passwords are never read from the configuration file or the environment;
they come from a password.Provider keyed by the password_id named on a
profile or a webdav filesystem.
*/
package config
