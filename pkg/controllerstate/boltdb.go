package controllerstate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ridgeline/pkg/types"
)

var (
	bucketNodes      = []byte("nodes")
	bucketJobs       = []byte("jobs")
	bucketPartitions = []byte("partitions")
	bucketMeta       = []byte("meta")
)

const metaConfigLiteKey = "last_config_lite"

// BoltStore is the durable Store implementation, one file per controller
// data directory, mirroring the original's state-save-location layout.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ridgeline.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open controller state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketJobs, bucketPartitions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(node.Name), data)
	})
}

func (s *BoltStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *BoltStore) GetNode(name string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("node not found: %s", name)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(name))
	})
}

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put(jobKey(job.ID), data)
	})
}

func (s *BoltStore) UpdateJob(job *types.Job) error { return s.CreateJob(job) }

func (s *BoltStore) GetJob(id uint32) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(jobKey(id))
		if data == nil {
			return fmt.Errorf("job not found: %d", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) DeleteJob(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete(jobKey(id))
	})
}

func (s *BoltStore) CreatePartition(p *types.Partition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPartitions).Put([]byte(p.Name), data)
	})
}

func (s *BoltStore) UpdatePartition(p *types.Partition) error { return s.CreatePartition(p) }

func (s *BoltStore) GetPartition(name string) (*types.Partition, error) {
	var p types.Partition
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPartitions).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("partition not found: %s", name)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPartitions() ([]*types.Partition, error) {
	var partitions []*types.Partition
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).ForEach(func(k, v []byte) error {
			var p types.Partition
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			partitions = append(partitions, &p)
			return nil
		})
	})
	return partitions, err
}

func (s *BoltStore) DeletePartition(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).Delete([]byte(name))
	})
}

func (s *BoltStore) SaveConfigLite(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(metaConfigLiteKey), data)
	})
}

func (s *BoltStore) LoadConfigLite() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(metaConfigLiteKey))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func jobKey(id uint32) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}
