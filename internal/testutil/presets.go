package testutil

// WithCycleTestData adds the cross-entity cycle fixture.
//
// Structure:
//
//	user_events (data) --lineage.consumers--> user_activity (event)
//	user_activity (event) --workflow produces--> user_events (data)
//	user_api (api) --metadata.dependencies--> user_events
func (b *Builder) WithCycleTestData() *Builder {
	return b.
		WithDataset("user_events", Version("1.1.1"),
			Field("email", "string", false, true),
			Encrypted(true),
			Consumer("service", "user_activity")).
		WithEvent("user_activity", Version("1.0.0"),
			Step("aggregate", []string{"user_events"}, []string{"user_events"})).
		WithAPI("user_api", Version("2.0.0"),
			Dependency("user_events"))
}

// WithGovernanceTestData adds one compliant and one violating manifest per
// PII governance rule.
func (b *Builder) WithGovernanceTestData() *Builder {
	return b.
		WithDataset("customers", Version("1.0.0"),
			Field("ssn", "string", true, true), Encrypted(true)).
		WithDataset("leads", Version("1.0.0"),
			Field("phone", "string", false, true)).
		WithEvent("signup", Version("1.0.0"),
			PayloadField("email", "string", true), DeadLetterQueue("signup-dlq")).
		WithEvent("click", Version("1.0.0"),
			PayloadField("ip", "string", true), Guarantee("at-least-once")).
		WithAPI("profile", Version("1.0.0"),
			Endpoint("GET", "/profile", APIField{Name: "email", Type: "string", PII: true}),
			Classification("pii")).
		WithAPI("search", Version("1.0.0"),
			Endpoint("GET", "/search", APIField{Name: "email", Type: "string", PII: true}))
}

// UserEvents returns the data manifest used in resolution tests.
func UserEvents(version string) map[string]any {
	return Body("dataset", "user_events",
		Version(version),
		Status("active"),
		PrimaryKey("event_id"),
		Field("event_id", "string", true, false),
		Field("email", "string", false, true),
		Encrypted(true),
		Consumer("model", "churn_model"),
		Refresh("hourly"))
}
