package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_versions (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				category VARCHAR(50) NOT NULL,
				priority VARCHAR(20) NOT NULL,
				enabled BOOLEAN NOT NULL,
				owner VARCHAR(255),
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_workflow_versions_category ON workflow_versions(category);
			CREATE INDEX idx_workflow_versions_created_at ON workflow_versions(created_at);
		`,
		2: `
			-- Execution history is append-only; rows are never updated.
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				document_id VARCHAR(255),
				status VARCHAR(20) NOT NULL,
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				record JSONB NOT NULL,
				appended_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_start_time ON executions(start_time);
		`,
		3: `
			CREATE TABLE approvals (
				id VARCHAR(255) PRIMARY KEY,
				status VARCHAR(20) NOT NULL,
				document_id VARCHAR(255),
				execution_id VARCHAR(255),
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approvals_status ON approvals(status);
		`,
	}
}
