package depgraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig locates the graph database.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jSink mirrors a repository's import graph into Neo4j as
// (:SourceFile)-[:IMPORTS]->(:SourceFile).
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jSink connects and verifies connectivity.
func NewNeo4jSink(ctx context.Context, cfg Neo4jConfig) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}
	return &Neo4jSink{driver: driver, database: db}, nil
}

// Close releases the driver.
func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Write replaces the stored graph of repoID with g.
func (s *Neo4jSink) Write(ctx context.Context, repoID string, g *Graph) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MATCH (f:SourceFile {repoId: $repoId}) DETACH DELETE f`,
			map[string]any{"repoId": repoID},
		); err != nil {
			return nil, err
		}

		files := make([]map[string]any, 0, len(g.nodes))
		for _, c := range g.AllCoupling() {
			files = append(files, map[string]any{
				"path":        c.Path,
				"afferent":    c.Afferent,
				"efferent":    c.Efferent,
				"instability": c.Instability,
			})
		}
		if _, err := tx.Run(ctx, `
			UNWIND $files AS file
			MERGE (f:SourceFile {repoId: $repoId, path: file.path})
			SET f.afferent = file.afferent,
			    f.efferent = file.efferent,
			    f.instability = file.instability
		`, map[string]any{"repoId": repoID, "files": files}); err != nil {
			return nil, err
		}

		edges := make([]map[string]any, 0)
		for _, e := range g.Edges() {
			edges = append(edges, map[string]any{"from": e.From, "to": e.To})
		}
		_, err := tx.Run(ctx, `
			UNWIND $edges AS edge
			MATCH (a:SourceFile {repoId: $repoId, path: edge.from})
			MATCH (b:SourceFile {repoId: $repoId, path: edge.to})
			MERGE (a)-[:IMPORTS]->(b)
		`, map[string]any{"repoId": repoID, "edges": edges})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to write graph for %s: %w", repoID, err)
	}
	return nil
}
