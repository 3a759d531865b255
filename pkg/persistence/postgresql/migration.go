package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create run snapshots table
			CREATE TABLE run_snapshots (
				id VARCHAR(64) PRIMARY KEY,
				status VARCHAR(32) NOT NULL CHECK (status IN ('idle', 'collecting', 'executing', 'challenged', 'failed', 'completed')),
				pointer INT NOT NULL DEFAULT 0,
				generation BIGINT NOT NULL DEFAULT 0,
				snapshot JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_run_snapshots_status ON run_snapshots(status);
		`,
		2: `
			-- Listing and idle eviction scan by last update
			CREATE INDEX idx_run_snapshots_updated_at ON run_snapshots(updated_at DESC);
		`,
	}
}
