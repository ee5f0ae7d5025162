package model

// Entry type names as they appear as keys in a trace record.
const (
	TypeDynamoOutputGraph      = "dynamo_output_graph"
	TypeCompilationMetrics     = "compilation_metrics"
	TypeDynamoGuards           = "dynamo_guards"
	TypeInductorOutputCode     = "inductor_output_code"
	TypeChromiumEvent          = "chromium_event"
	TypeDynamoStart            = "dynamo_start"
	TypeAOTForwardGraph        = "aot_forward_graph"
	TypeAOTBackwardGraph       = "aot_backward_graph"
	TypeAOTJointGraph          = "aot_joint_graph"
	TypeAOTInferenceGraph      = "aot_inference_graph"
	TypeInductorPreGradGraph   = "inductor_pre_grad_graph"
	TypeInductorPostGradGraph  = "inductor_post_grad_graph"
	TypeOptimizeDDPSplitGraph  = "optimize_ddp_split_graph"
	TypeOptimizeDDPSplitChild  = "optimize_ddp_split_child"
	TypeCompiledAutogradGraph  = "compiled_autograd_graph"
	TypeGraphDump              = "graph_dump"
	TypeDynamoCppGuardsStr     = "dynamo_cpp_guards_str"
	TypeBwdCompilationMetrics  = "bwd_compilation_metrics"
	TypeAOTBackwardMetrics     = "aot_autograd_backward_compilation_metrics"
	TypeSymbolicSpecialization = "symbolic_shape_specialization"
	TypeGuardAddedFast         = "guard_added_fast"
	TypePropagateRealTensors   = "propagate_real_tensors_provenance"
	TypeGuardAdded             = "guard_added"
	TypeCreateUnbackedSymbol   = "create_unbacked_symbol"
	TypeExpressionCreated      = "expression_created"
	TypeArtifact               = "artifact"
	TypeDumpFile               = "dump_file"
	TypeLink                   = "link"
	TypeDescribeTensor         = "describe_tensor"
	TypeDescribeStorage        = "describe_storage"
	TypeDescribeSource         = "describe_source"
	TypeMissingFakeKernel      = "missing_fake_kernel"
	TypeMismatchedFakeKernel   = "mismatched_fake_kernel"
	TypeExportedProgram        = "exported_program"
	TypeStr                    = "str"
	TypeStack                  = "stack"
	TypeStringTable            = "string_table"
)

// EntryTypePriority is the order in which a record's keys are checked when
// deciding its entry type. The first key present wins.
var EntryTypePriority = []string{
	TypeDynamoOutputGraph,
	TypeCompilationMetrics,
	TypeDynamoGuards,
	TypeInductorOutputCode,
	TypeChromiumEvent,
	TypeDynamoStart,
	TypeAOTForwardGraph,
	TypeAOTBackwardGraph,
	TypeAOTJointGraph,
	TypeAOTInferenceGraph,
	TypeInductorPreGradGraph,
	TypeInductorPostGradGraph,
	TypeOptimizeDDPSplitGraph,
	TypeOptimizeDDPSplitChild,
	TypeCompiledAutogradGraph,
	TypeGraphDump,
	TypeDynamoCppGuardsStr,
	TypeBwdCompilationMetrics,
	TypeAOTBackwardMetrics,
	TypeSymbolicSpecialization,
	TypeGuardAddedFast,
	TypePropagateRealTensors,
	TypeGuardAdded,
	TypeCreateUnbackedSymbol,
	TypeExpressionCreated,
	TypeArtifact,
	TypeDumpFile,
	TypeLink,
	TypeDescribeTensor,
	TypeDescribeStorage,
	TypeDescribeSource,
	TypeMissingFakeKernel,
	TypeMismatchedFakeKernel,
	TypeExportedProgram,
	TypeStr,
	TypeStack,
}
